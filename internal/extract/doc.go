// Package extract provides the metadata extraction plugins and their
// registry.
//
// Every plugin implements the same two-operation capability interface:
// Applicable decides cheaply (extension or magic bytes) whether the
// plugin claims a file, and Extract produces exactly one Record for a
// claimed file. Extract is total: any internal failure becomes a record
// with StatusFailed rather than an error escaping into the traversal.
//
// The registry holds plugins in a fixed registration order built at
// startup from static configuration. All plugins claiming a file are
// invoked, so one file can yield several independent records; merging
// them is deliberately left to consumers, which keeps every plugin's
// output intact.
//
// Built-in variants:
//   - basic: generic file metadata, claims everything
//   - text:  character count, encoding, excerpt for plain text
//   - image: dimensions, color mode, format for raster images
//   - pdf:   page count, text preview, document info
//   - json / yaml: structure analysis for configuration documents
package extract
