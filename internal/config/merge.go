package config

import "reflect"

// MergeNonZero returns a copy of base with every non-zero field in overlay
// applied on top. It handles strings, numbers, durations, bools (always
// override), slices/maps (non-empty overrides), and nested structs
// (recursed). Neither the config loader nor the per-request hot path calls
// it (see package gateway for that merge, which is an explicit enumerated
// function instead).
func MergeNonZero[T any](base, overlay T) T {
	result := base
	mergeValue(reflect.ValueOf(&result).Elem(), reflect.ValueOf(&overlay).Elem())
	return result
}

func mergeValue(dst, src reflect.Value) {
	switch dst.Kind() {
	case reflect.Struct:
		mergeStruct(dst, src)
	case reflect.Map:
		mergeMap(dst, src)
	default:
		if !src.IsZero() {
			dst.Set(src)
		}
	}
}

func mergeStruct(dst, src reflect.Value) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		df := dst.Field(i)
		sf := src.Field(i)
		if !df.CanSet() {
			continue
		}

		switch df.Kind() {
		case reflect.Bool:
			df.SetBool(sf.Bool())
		case reflect.Struct:
			mergeStruct(df, sf)
		case reflect.Map:
			mergeMap(df, sf)
		case reflect.Ptr:
			if !sf.IsNil() {
				df.Set(sf)
			}
		case reflect.Slice:
			if sf.Len() > 0 {
				df.Set(sf)
			}
		default:
			if !sf.IsZero() {
				df.Set(sf)
			}
		}
	}
}

func mergeMap(dst, src reflect.Value) {
	if src.IsNil() || src.Len() == 0 {
		return
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	} else {
		newMap := reflect.MakeMap(dst.Type())
		for _, k := range dst.MapKeys() {
			newMap.SetMapIndex(k, dst.MapIndex(k))
		}
		dst.Set(newMap)
	}
	for _, k := range src.MapKeys() {
		dst.SetMapIndex(k, src.MapIndex(k))
	}
}
