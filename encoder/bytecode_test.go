package encoder_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ozanh/evie"
	. "github.com/ozanh/evie/encoder"
)

const testScript = `
class Counter {
  init(start) { this.n = start; }
  inc() {
    this.n = this.n + 1;
    return this;
  }
}

fun makeAdder(x) {
  fun add(y) { return x + y; }
  return add;
}

var c = Counter(0.5);
c.inc().inc();
var add2 = makeAdder(2);
var fs = "";
for (var i = 0; i < 3; i = i + 1) {
  fun f() { return i; }
  fs = fs + str(f());
}
print c.n;
print add2(40);
print fs;
print "done" + "!";
return c.n * 2;
`

func TestBytecode_RoundTrip(t *testing.T) {
	bc, err := evie.Compile([]byte(testScript), evie.CompilerOptions{})
	require.NoError(t, err)
	defer bc.Release()

	var buf bytes.Buffer
	require.NoError(t, EncodeBytecodeTo(bc, &buf))
	require.Equal(t, BytecodeSignature, binary.BigEndian.Uint32(buf.Bytes()[0:4]))
	require.Equal(t, BytecodeVersion, binary.BigEndian.Uint16(buf.Bytes()[4:6]))

	got, err := DecodeBytecodeFrom(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)
	defer got.Release()
	require.NotSame(t, bc.Heap, got.Heap)
	require.Equal(t, bc.String(), got.String())

	wantOut, wantRet := runBytecode(t, bc)
	gotOut, gotRet := runBytecode(t, got)
	require.Equal(t, "2.5\n42\n012\ndone!\n", wantOut)
	require.Equal(t, wantOut, gotOut)
	require.Equal(t, wantRet, gotRet)
	require.Equal(t, 5.0, gotRet)

	// encoding is deterministic
	var buf2 bytes.Buffer
	require.NoError(t, EncodeBytecodeTo(got, &buf2))
	require.Equal(t, buf.Bytes(), buf2.Bytes())
}

func TestBytecode_SharedHeap(t *testing.T) {
	h := evie.NewHeap(evie.HeapOptions{Stress: true})
	bc, err := evie.Compile([]byte(`var greeting = "hello"; print greeting;`),
		evie.CompilerOptions{Heap: h})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, (*Bytecode)(bc).Encode(&buf))
	bc.Release()
	h.Collect()
	require.Equal(t, 0, h.Stats().Objects)

	got, err := DecodeBytecodeFrom(&buf, h)
	require.NoError(t, err)
	require.Same(t, h, got.Heap)
	out, _ := runBytecode(t, got)
	require.Equal(t, "hello\n", out)

	got.Release()
	h.Collect()
	require.Equal(t, 0, h.Stats().Objects)
}

func TestBytecode_File(t *testing.T) {
	bc, err := evie.Compile([]byte(`fun f(a, b) { return a * b; } return f(6, 7);`),
		evie.CompilerOptions{})
	require.NoError(t, err)
	defer bc.Release()

	path := filepath.Join(t.TempDir(), "prog"+FileExt)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, EncodeBytecodeTo(bc, f))
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)

	got, err := DecodeBytecodeFrom(f, nil)
	require.NoError(t, err)
	defer got.Release()
	_, ret := runBytecode(t, got)
	require.Equal(t, 42.0, ret)
}

func TestBytecode_DecodeErrors(t *testing.T) {
	bc, err := evie.Compile([]byte(`print 1;`), evie.CompilerOptions{})
	require.NoError(t, err)
	defer bc.Release()
	data, err := (*Bytecode)(bc).MarshalBinary()
	require.NoError(t, err)

	expectDecodeErr(t, nil, "invalid data")
	expectDecodeErr(t, data[:4], "invalid data")

	bad := append([]byte(nil), data...)
	bad[0] = 'X'
	expectDecodeErr(t, bad, "signature mismatch")

	bad = append([]byte(nil), data...)
	binary.BigEndian.PutUint16(bad[4:6], BytecodeVersion+1)
	expectDecodeErr(t, bad, "unsupported version:2")

	// truncated body
	var got Bytecode
	err = got.UnmarshalBinary(data[:len(data)-2])
	require.Error(t, err)

	// empty body
	err = got.UnmarshalBinary(data[:6])
	require.Error(t, err)
}

func TestBytecode_DecodeOutOfMemory(t *testing.T) {
	bc, err := evie.Compile([]byte(testScript), evie.CompilerOptions{})
	require.NoError(t, err)
	defer bc.Release()

	var buf bytes.Buffer
	require.NoError(t, EncodeBytecodeTo(bc, &buf))

	h := evie.NewHeap(evie.HeapOptions{MaxBytes: 256})
	_, err = DecodeBytecodeFrom(&buf, h)
	require.True(t, errors.Is(err, evie.ErrOutOfMemory), "got %v", err)
	h.Collect()
	require.Equal(t, 0, h.Stats().Objects)
}

func TestBytecode_EncodeErrors(t *testing.T) {
	err := EncodeBytecodeTo(&evie.Bytecode{}, io.Discard)
	require.Error(t, err)

	h := evie.NewHeap(evie.HeapOptions{})
	s := h.Intern("not a function")
	err = EncodeBytecodeTo(&evie.Bytecode{Heap: h, Main: s}, io.Discard)
	require.Error(t, err)
}

func expectDecodeErr(t *testing.T, data []byte, msg string) {
	t.Helper()
	var bc Bytecode
	err := bc.UnmarshalBinary(data)
	require.Error(t, err)
	var e *evie.Error
	require.True(t, errors.As(err, &e), "got %T: %v", err, err)
	require.Equal(t, msg, e.Message)
}

func runBytecode(t *testing.T, bc *evie.Bytecode) (string, interface{}) {
	t.Helper()
	var out bytes.Buffer
	vm := evie.NewVM(bc, evie.VMOptions{Stdout: &out})
	defer vm.Close()
	v, err := vm.Run()
	require.NoError(t, err)
	if v.IsNumber() {
		return out.String(), v.AsNumber()
	}
	return out.String(), vm.ValueString(v)
}
