package mqtt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes/any"

	"github.com/robotalks/boardlink/pkg/link"
)

// TypeURLPrefix prefixes the magic in envelope type URLs.
const TypeURLPrefix = "boardlink/msg/"

// TypeURL returns the envelope type URL of a magic.
func TypeURL(m link.Magic) string {
	return TypeURLPrefix + strconv.Itoa(int(m))
}

// EncodeFrame wraps a message into a protobuf Any.
func EncodeFrame(msg *link.Message) ([]byte, error) {
	return proto.Marshal(&any.Any{
		TypeUrl: TypeURL(msg.Magic),
		Value:   msg.Buffer.Bytes(),
	})
}

// DecodeFrame unwraps a message from a protobuf Any.
func DecodeFrame(data []byte) (*link.Message, error) {
	var env any.Any
	if err := proto.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(env.TypeUrl, TypeURLPrefix) {
		return nil, fmt.Errorf("unknown type URL: %q", env.TypeUrl)
	}
	val, err := strconv.ParseUint(env.TypeUrl[len(TypeURLPrefix):], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid type URL %q: %v", env.TypeUrl, err)
	}
	return link.NewMessageWith(link.Magic(val), env.Value...)
}
