// Package mutationlock provides the installation-wide lock taken before any
// operation that alters installed files, services, or running processes.
//
// A Token combines an in-process guard with an OS primitive: a Global\ named
// mutex on Windows and an exclusively locked file elsewhere. Other tools that
// mutate the installation (installer, updater) take the same primitive.
package mutationlock
