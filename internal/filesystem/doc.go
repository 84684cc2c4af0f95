// Package filesystem implements the local file operations the hub can ask
// for: root drives, directory listings, entry metadata, directory creation
// and deletion, downloads, and uploads through partial files.
package filesystem
