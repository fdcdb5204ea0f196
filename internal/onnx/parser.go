package onnx

// Parse decodes the ModelProto envelope of src. Payloads are not read:
// raw_data and typed fields are recorded as Spans into src.
func Parse(src Source) (*ModelProto, error) {
	model := &ModelProto{}
	if err := newDecoder(src).readModelProto(model); err != nil {
		return nil, err
	}
	return model, nil
}

// readModelProto reads ModelProto message.
//
//nolint:gocognit,gocyclo,cyclop // Protobuf parsing requires field-by-field switch logic
func (d *decoder) readModelProto(m *ModelProto) error {
	for d.more() {
		fieldNum, wireType, err := d.readTag()
		if err != nil {
			return err
		}

		switch fieldNum {
		case fieldModelIRVersion:
			if err = d.expect(fieldNum, wireType, wireVarint); err == nil {
				m.IRVersion, err = d.readInt64()
			}
		case fieldModelOpsetImport:
			if err = d.expect(fieldNum, wireType, wireBytes); err != nil {
				return err
			}
			sub, err2 := d.sub()
			if err2 != nil {
				return err2
			}
			opset := OperatorSetID{}
			if err2 := sub.readOperatorSetID(&opset); err2 != nil {
				return err2
			}
			m.OpsetImport = append(m.OpsetImport, opset)
		case fieldModelProducerName:
			if err = d.expect(fieldNum, wireType, wireBytes); err == nil {
				m.ProducerName, err = d.readString()
			}
		case fieldModelProducerVersion:
			if err = d.expect(fieldNum, wireType, wireBytes); err == nil {
				m.ProducerVersion, err = d.readString()
			}
		case fieldModelDomain:
			if err = d.expect(fieldNum, wireType, wireBytes); err == nil {
				m.Domain, err = d.readString()
			}
		case fieldModelModelVersion:
			if err = d.expect(fieldNum, wireType, wireVarint); err == nil {
				m.ModelVersion, err = d.readInt64()
			}
		case fieldModelGraph:
			if err = d.expect(fieldNum, wireType, wireBytes); err != nil {
				return err
			}
			sub, err2 := d.sub()
			if err2 != nil {
				return err2
			}
			// Repeated occurrences of a message field merge.
			if m.Graph == nil {
				m.Graph = &GraphProto{}
			}
			if err2 := sub.readGraphProto(m.Graph); err2 != nil {
				return err2
			}
		case fieldModelMetadataProps:
			if err = d.expect(fieldNum, wireType, wireBytes); err != nil {
				return err
			}
			sub, err2 := d.sub()
			if err2 != nil {
				return err2
			}
			entry := StringStringEntry{}
			if err2 := sub.readStringStringEntry(&entry); err2 != nil {
				return err2
			}
			m.MetadataProps = append(m.MetadataProps, entry)
		default:
			err = d.skipField(wireType)
		}

		if err != nil {
			return err
		}
	}
	return nil
}

// readGraphProto reads the parts of GraphProto that carry weights.
func (d *decoder) readGraphProto(m *GraphProto) error {
	for d.more() {
		fieldNum, wireType, err := d.readTag()
		if err != nil {
			return err
		}

		switch fieldNum {
		case fieldGraphName:
			if err = d.expect(fieldNum, wireType, wireBytes); err == nil {
				m.Name, err = d.readString()
			}
		case fieldGraphInitializer:
			if err = d.expect(fieldNum, wireType, wireBytes); err != nil {
				return err
			}
			sub, err2 := d.sub()
			if err2 != nil {
				return err2
			}
			tensor := TensorProto{Offset: sub.pos}
			if err2 := sub.readTensorProto(&tensor); err2 != nil {
				return err2
			}
			m.Initializers = append(m.Initializers, tensor)
		case fieldGraphSparseInitializer:
			m.SparseInitializers++
			err = d.skipField(wireType)
		default:
			err = d.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readTensorProto reads TensorProto message.
//
//nolint:gocognit,gocyclo,cyclop,funlen // Protobuf parsing requires field-by-field switch logic
func (d *decoder) readTensorProto(m *TensorProto) error {
	for d.more() {
		fieldNum, wireType, err := d.readTag()
		if err != nil {
			return err
		}

		switch fieldNum {
		case fieldTensorDims: // repeated int64, packed or not
			if err = d.expect(fieldNum, wireType, wireVarint, wireBytes); err != nil {
				return err
			}
			if wireType == wireBytes {
				s, err2 := d.readSpan()
				if err2 != nil {
					return err2
				}
				err = eachVarint(d.src, []Span{s}, func(v uint64) {
					m.Dims = append(m.Dims, int64(v)) //nolint:gosec // G115: two's complement int64
				})
				break
			}
			v, err2 := d.readInt64()
			if err2 != nil {
				return err2
			}
			m.Dims = append(m.Dims, v)
		case fieldTensorDataType:
			if err = d.expect(fieldNum, wireType, wireVarint); err == nil {
				m.DataType, err = d.readInt32()
			}
		case fieldTensorSegment:
			m.Segmented = true
			err = d.skipField(wireType)
		case fieldTensorFloatData: // packed, or unpacked fixed32
			if err = d.expect(fieldNum, wireType, wireBytes, wire32Bit); err != nil {
				return err
			}
			var s Span
			s, err = d.readElement(wireType, 4)
			m.FloatData = append(m.FloatData, s)
		case fieldTensorInt32Data:
			if err = d.expect(fieldNum, wireType, wireBytes, wireVarint); err != nil {
				return err
			}
			var s Span
			s, err = d.readElement(wireType, 0)
			m.Int32Data = append(m.Int32Data, s)
		case fieldTensorInt64Data:
			if err = d.expect(fieldNum, wireType, wireBytes, wireVarint); err != nil {
				return err
			}
			var s Span
			s, err = d.readElement(wireType, 0)
			m.Int64Data = append(m.Int64Data, s)
		case fieldTensorName:
			if err = d.expect(fieldNum, wireType, wireBytes); err == nil {
				m.Name, err = d.readString()
			}
		case fieldTensorRawData:
			if err = d.expect(fieldNum, wireType, wireBytes); err != nil {
				return err
			}
			s, err2 := d.readSpan()
			if err2 != nil {
				return err2
			}
			m.RawData = &s
		case fieldTensorExternalData:
			if err = d.expect(fieldNum, wireType, wireBytes); err != nil {
				return err
			}
			sub, err2 := d.sub()
			if err2 != nil {
				return err2
			}
			entry := StringStringEntry{}
			if err2 := sub.readStringStringEntry(&entry); err2 != nil {
				return err2
			}
			m.ExternalData = append(m.ExternalData, entry)
		case fieldTensorDataLocation:
			if err = d.expect(fieldNum, wireType, wireVarint); err == nil {
				m.DataLocation, err = d.readInt32()
			}
		default:
			err = d.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readElement returns the window of one repeated-field occurrence: the
// whole packed run for wireBytes, or a single unpacked element.
// fixedWidth is the element size for fixed-width fields, 0 for varints.
func (d *decoder) readElement(wireType int, fixedWidth int64) (Span, error) {
	if wireType == wireBytes {
		return d.readSpan()
	}
	start := d.pos
	if fixedWidth > 0 {
		if err := d.advance(fixedWidth); err != nil {
			return Span{}, err
		}
	} else if _, err := d.readVarint(); err != nil {
		return Span{}, err
	}
	return Span{Offset: start, Length: d.pos - start}, nil
}

// readOperatorSetID reads OperatorSetID message.
func (d *decoder) readOperatorSetID(m *OperatorSetID) error {
	for d.more() {
		fieldNum, wireType, err := d.readTag()
		if err != nil {
			return err
		}

		switch fieldNum {
		case fieldOpsetDomain:
			if err = d.expect(fieldNum, wireType, wireBytes); err == nil {
				m.Domain, err = d.readString()
			}
		case fieldOpsetVersion:
			if err = d.expect(fieldNum, wireType, wireVarint); err == nil {
				m.Version, err = d.readInt64()
			}
		default:
			err = d.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readStringStringEntry reads StringStringEntry message.
func (d *decoder) readStringStringEntry(m *StringStringEntry) error {
	for d.more() {
		fieldNum, wireType, err := d.readTag()
		if err != nil {
			return err
		}

		switch fieldNum {
		case fieldEntryKey:
			if err = d.expect(fieldNum, wireType, wireBytes); err == nil {
				m.Key, err = d.readString()
			}
		case fieldEntryValue:
			if err = d.expect(fieldNum, wireType, wireBytes); err == nil {
				m.Value, err = d.readString()
			}
		default:
			err = d.skipField(wireType)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
