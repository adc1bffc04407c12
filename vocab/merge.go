// Package vocab loads the runtime vocabulary handed to card editor plugins:
// the plugin's bundled translation table merged with the host's.
package vocab

// Merge combines a plugin's bundled (local) table with the host table.
//
// The host wins for every key, except where the host value is the key itself,
// which is how the host marks a key it has no translation for. In that case a
// local value that is not itself a placeholder is used instead.
func Merge(local, host map[string]string) map[string]string {
	out := make(map[string]string, len(local)+len(host))
	for key, value := range local {
		out[key] = value
	}
	for key, hostValue := range host {
		if hostValue == key {
			if localValue, ok := local[key]; ok && localValue != "" && localValue != key {
				continue
			}
		}
		out[key] = hostValue
	}
	return out
}
