// Package onnx decodes the parts of an ONNX model file that carry weights.
//
// ONNX (Open Neural Network Exchange) files are serialized ModelProto
// protobuf messages. This package implements a hand-written wire decoder
// for the subset needed to recover initializers:
//   - ModelProto: ir_version, opset_import, producer metadata, graph
//   - GraphProto: name and initializer list
//   - TensorProto: dims, data_type, name, raw_data, typed data fields,
//     data_location and external_data
//
// Nodes, value infos and every other field are skipped. The decoder reads
// through a Source and never copies payloads: raw_data and the typed
// repeated fields are recorded as file windows (Span) that the realizer
// resolves later.
//
// Example usage:
//
//	src, err := bytesource.Open("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
//
//	model, err := onnx.Decode(src, onnx.DecodeOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, rec := range model.Records {
//	    fmt.Printf("%s %s%s\n", rec.Name, rec.DType, rec.Shape)
//	}
package onnx
