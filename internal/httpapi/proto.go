package httpapi

import (
	"errors"
	"io"
	"math"
	"net/http"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxRequestBody caps uploads for every content type. A 1080p JPEG from a
// webcam is well under 1 MiB; base64 JSON adds a third.
const maxRequestBody = 8 << 20

var errBadProto = errors.New("malformed protobuf frame upload")

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload.
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "application/x-protobuf" ||
		ct == "application/protobuf" ||
		ct == "application/octet-stream"
}

// protoFrame mirrors the FrameUpload message:
//
//	message FrameUpload {
//	  string session_id   = 1;
//	  bytes  frame        = 2;
//	  double motion_score = 3;
//	}
type protoFrame struct {
	SessionID   string
	Frame       []byte
	MotionScore float64
}

// readProtoFrame reads the request body and decodes it as a FrameUpload.
// Unknown fields are skipped.
func readProtoFrame(r *http.Request) (protoFrame, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return protoFrame{}, err
	}
	return unmarshalProtoFrame(body)
}

func unmarshalProtoFrame(b []byte) (protoFrame, error) {
	var f protoFrame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protoFrame{}, errBadProto
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protoFrame{}, errBadProto
			}
			f.SessionID = string(v)
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protoFrame{}, errBadProto
			}
			f.Frame = append([]byte(nil), v...)
			b = b[n:]
		case num == 3 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return protoFrame{}, errBadProto
			}
			f.MotionScore = math.Float64frombits(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protoFrame{}, errBadProto
			}
			b = b[n:]
		}
	}
	return f, nil
}
