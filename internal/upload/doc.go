// Package upload reconciles local segments, the object store, and the
// recordings catalog.
//
// A Reconciler run has three phases that fail independently:
//
//  1. discover local segments, upload the ones missing remotely, and record
//     them in the catalog;
//  2. list the remote namespace and merge it against catalog paths, adding
//     rows for unknown keys and dropping rows whose object vanished;
//  3. sweep expired local files that the phase 2 listing (or, failing that,
//     a per-file existence check) proves durable.
//
// A failure inside one phase is logged and recorded in the Report; the next
// phase still runs.
package upload
