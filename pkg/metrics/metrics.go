package metrics

// Namespace prefixes every metric exported by the service.
const Namespace = "creditwallet"

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
