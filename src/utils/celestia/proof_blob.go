package celestia

import (
	"fmt"

	"github.com/hamba/avro"
)

// Contents of a batch blob posted by the sequencer
type ProofBlob struct {
	BatchNumber  int64  `avro:"batch_number"`
	Proof        []byte `avro:"proof"`
	PublicInputs []byte `avro:"public_inputs"`
}

var proofBlobSchema = avro.MustParse(`{
	"type": "record",
	"name": "ProofBlob",
	"namespace": "via",
	"fields": [
		{"name": "batch_number", "type": "long"},
		{"name": "proof", "type": "bytes"},
		{"name": "public_inputs", "type": "bytes"}
	]
}`)

func DecodeProofBlob(data []byte) (out *ProofBlob, err error) {
	out = new(ProofBlob)
	err = avro.Unmarshal(proofBlobSchema, data, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBlob, err)
	}
	return
}

func (self *ProofBlob) Encode() ([]byte, error) {
	return avro.Marshal(proofBlobSchema, self)
}
