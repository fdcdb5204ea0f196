// Package bytesource provides bounded, random-access views over model files.
//
// A File presents a model file as a length plus an At(offset, length)
// contract. Reads are served either from a memory mapping (zero-copy) or
// from a read-through chunk buffer:
//
//	src, err := bytesource.Open("model.onnx")
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	if _, err := src.Map(); err != nil {
//	    // fall back to buffered reads
//	}
//	header, err := src.At(0, 16)
//
// Mappings are owned by reference-counted Regions. Tensors that borrow
// from a mapping Retain its Region and Release it when they are dropped;
// the mapping is removed when the last holder lets go, which may be long
// after the File itself was closed.
//
// Slices returned by At and Region.Bytes are read-only. Writing to them
// faults on a mapped file.
package bytesource
