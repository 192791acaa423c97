// Package gitignore implements enough of the gitignore pattern grammar
// (https://git-scm.com/docs/gitignore) for the scanner and the
// coordinator to treat .gitignore the same way a real git checkout
// would:
//
//   - literal and wildcard patterns (*.log, temp/, *.min.*)
//   - ** in any position (**/node_modules, logs/**, a/**/b)
//   - root-anchored patterns (/build, /config.json)
//   - negation (!keep.log)
//   - directory-only patterns (build/)
//   - per-directory scoping, for nested .gitignore files
//
// A Matcher is safe for concurrent Match calls while AddPattern/
// AddPatternWithBase run on another goroutine, since the scanner's
// directory walk and the coordinator's reconciliation path can both be
// touching gitignore state at once.
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!important.log")
//	m.AddPattern("/build/")
//
//	if m.Match("error.log", false) {
//	    // ignored
//	}
//
// Nested .gitignore files are scoped with a base directory:
//
//	m.AddFromFile("/repo/.gitignore", "")
//	m.AddFromFile("/repo/src/.gitignore", "src")
package gitignore
