package topics

import "strings"

// aliases maps lower-cased free-text labels to the canonical topic
// vocabulary shared with the question service. Unknown labels pass
// through trimmed so older clients keep working.
var aliases = map[string]string{
	"array":                     "Array",
	"arrays":                    "Array",
	"arrays & strings":          "Array",
	"arrays and strings":        "Array",
	"string":                    "Strings",
	"strings":                   "Strings",
	"linked list":               "Linked List",
	"linked lists":              "Linked List",
	"tree":                      "Trees",
	"trees":                     "Trees",
	"trees & graphs":            "Trees",
	"graph":                     "Graphs",
	"graphs":                    "Graphs",
	"dynamic programming":       "Algorithms",
	"dp":                        "Algorithms",
	"heaps & priority queues":   "Algorithms",
	"heaps and priority queues": "Algorithms",
	"sorting":                   "Algorithms",
	"searching":                 "Algorithms",
	"sorting & searching":       "Algorithms",
	"algorithms":                "Algorithms",
	"recursion":                 "Recursion",
	"databases":                 "Databases",
	"sql":                       "Databases",
	"data structures":           "Data Structures",
	"bit manipulation":          "Bit Manipulation",
	"brainteaser":               "Brainteaser",
}

// Normalize canonicalizes a free-text topic label. It is applied on
// every write and defensively on every read, so it must be idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(label string) string {
	trimmed := strings.TrimSpace(label)
	if canonical, ok := aliases[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}
