package appstorage

import "github.com/vmihailenco/msgpack/v5"

// record is the on-disk wire shape for every item, independent of its
// element type T: rev/deleted are decoded generically by Appstorage's
// refresh loop, Data is decoded into T lazily by the owning Item.
type record struct {
	Rev     int64  `msgpack:"rev"`
	Deleted bool   `msgpack:"deleted"`
	Data    []byte `msgpack:"data"`
}

func decodeRecord(raw []byte) (record, error) {
	var rec record
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return record{}, err
	}
	return rec, nil
}

func encodeRecord(rev int64, deleted bool, data any) ([]byte, error) {
	dataBytes, err := msgpack.Marshal(data)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(record{Rev: rev, Deleted: deleted, Data: dataBytes})
}

func unmarshalRecordData(data []byte, out any) error {
	return msgpack.Unmarshal(data, out)
}
