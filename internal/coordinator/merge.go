package coordinator

// DeepMerge recursively merges src into dst for the MERGE conflict
// resolution strategy named in spec §4.12. Maps merge key-by-key
// recursively; slices and scalars are last-write-wins (src replaces dst).
// No pack dependency models this decode-and-merge-any-JSON-value shape
// directly, so it's hand-rolled; see DESIGN.md.
func DeepMerge(dst, src any) any {
	dstMap, dstIsMap := dst.(map[string]any)
	srcMap, srcIsMap := src.(map[string]any)
	if dstIsMap && srcIsMap {
		out := make(map[string]any, len(dstMap))
		for k, v := range dstMap {
			out[k] = v
		}
		for k, v := range srcMap {
			if existing, ok := out[k]; ok {
				out[k] = DeepMerge(existing, v)
			} else {
				out[k] = v
			}
		}
		return out
	}
	return src
}
