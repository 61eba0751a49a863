package influx

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"senseflow/pkg/interfaces"
)

var fluxEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `${`, `\${`)

// fluxString renders s as a Flux string literal
func fluxString(s string) string {
	return `"` + fluxEscaper.Replace(s) + `"`
}

// sortedKeys returns the keys of m with non-empty values, sorted
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// buildFlux renders q as a Flux query against bucket
func buildFlux(bucket string, q interfaces.Query, start, stop time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n",
		start.UTC().Format(time.RFC3339Nano), stop.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s)\n", fluxString(q.Measurement))
	for _, k := range sortedKeys(q.Tags) {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r[%s] == %s)\n", fluxString(k), fluxString(q.Tags[k]))
	}
	if q.Field != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r._field == %s)\n", fluxString(q.Field))
	}
	fmt.Fprintf(&b, "  |> sort(columns: [\"_time\"], desc: %t)\n", q.Descending)
	if q.Limit > 0 {
		fmt.Fprintf(&b, "  |> limit(n: %d)\n", q.Limit)
	}
	return b.String()
}

// buildPredicate renders a delete predicate; delete predicates only support AND of equalities
func buildPredicate(measurement string, tags map[string]string) string {
	parts := []string{fmt.Sprintf("_measurement=%s", fluxString(measurement))}
	for _, k := range sortedKeys(tags) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fluxString(tags[k])))
	}
	return strings.Join(parts, " AND ")
}
