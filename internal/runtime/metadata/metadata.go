// Package metadata names the transport headers the bus writes next to each
// envelope, so middleware can route and trace without decoding bodies.
package metadata

// Metadata is the header set of one message.
type Metadata map[string]string

// New builds Metadata from alternating key/value pairs. Pairs with an empty
// value are left out, so optional headers can be listed unconditionally. A
// trailing key without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
