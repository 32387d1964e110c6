package upload

import "sort"

// RunTestsLog is always listed first within a directory.
const RunTestsLog = "run_tests.log"

// OrderNames sorts names in place, ascending, and moves RunTestsLog to the
// front when present.
func OrderNames(names []string) {
	sort.Strings(names)

	for i, name := range names {
		if name != RunTestsLog {
			continue
		}

		copy(names[1:i+1], names[:i])
		names[0] = RunTestsLog

		return
	}
}
