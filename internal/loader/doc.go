// Package loader loads the initializers of an ONNX model into a registry.
//
// A load walks four stages: the model file is opened (and mapped when the
// policy allows), the container is decoded into initializer records, each
// record is realized into a tensor, and the tensors are frozen into a
// registry.Registry. Any failure releases every tensor and mapping made
// during that attempt before the error is returned.
//
// Example:
//
//	opts := loader.DefaultOptions()
//	opts.VerifyChecksums = true
//
//	reg, err := loader.Load("model.onnx", opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reg.Close()
//
//	w, err := reg.Get("encoder.weight")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(w.DType(), w.Shape())
//
// Tensors borrowed from a mapped file stay valid until the registry is
// closed, even though Load has already closed the file itself.
package loader
