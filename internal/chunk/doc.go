// Package chunk stages separately uploaded pieces of a large file and
// reassembles them into one file on request.
//
// Chunks are named "<base>-<index>". Each chunk is moved into a staging
// directory for its base name; Merge orders the staged chunks by index,
// copies them concurrently into their own byte ranges of the destination and
// removes the staging directory once every copy has finished.
package chunk
