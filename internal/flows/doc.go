// Package flows contains the login and refresh-rotation orchestrators used by
// the Engine.
//
// Each flow accepts a typed dependency struct of functions and interfaces and
// performs no I/O of its own. Flows hold no state between calls and must not
// import the root taskauth package.
package flows
