package vmtest

import _ "embed"

// KVWasm is a minimal real wasm contract, see testdata/kv.wat.
// instantiate stores k=orig, execute copies k to prev and stores the raw
// message under k, query answers "ok" and writes storage when the message's
// second byte is 'w', dump_coverage returns "cov".
//
//go:embed testdata/kv.wasm
var KVWasm []byte
