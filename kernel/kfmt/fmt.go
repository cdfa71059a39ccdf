// Package kfmt provides the kernel's logging primitives: an allocation-free
// Printf that works before the Go allocator is available, a ring buffer that
// captures early output and a fatal Panic handler.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf = []byte("012345678901234567890123456789012")

	// singleByte is a shared one-byte buffer; writing string contents one
	// byte at a time avoids the allocation of a []byte conversion.
	singleByte = []byte(" ")

	// earlyPrintBuffer stores Printf output until an output sink is
	// registered.
	earlyPrintBuffer ringBuffer

	// outputSink receives Printf output. When nil, output goes to
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink redirects Printf output to w and drains any output that was
// buffered while no sink was registered.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently registered output sink or nil if
// output is being buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf is a minimal fmt.Printf replacement that does not allocate memory
// and can therefore be used while the memory subsystem is being set up.
//
// Supported verbs:
//
//	%s  string or []byte
//	%d  base 10 integer
//	%o  base 8 integer
//	%x  base 16 integer (lower-case)
//	%t  bool
//	%%  literal percent sign
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes. Pointers (%p) are not supported because
// formatting them pulls in reflect.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes its output to w. A nil w sends the
// output to the early print buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex   int
		litStart   int
		cur        int
		formatSize = len(format)
	)

	for cur < formatSize {
		if format[cur] != '%' {
			cur++
			continue
		}

		writeLiteral(w, format, litStart, cur)

		// parse optional width followed by the verb
		width := 0
		cur++
	parseVerb:
		for ; cur < formatSize; cur++ {
			ch := format[cur]
			switch {
			case ch == '%':
				singleByte[0] = '%'
				doWrite(w, singleByte)
				break parseVerb
			case ch >= '0' && ch <= '9':
				width = width*10 + int(ch-'0')
			case ch == 'd' || ch == 'x' || ch == 'o' || ch == 's' || ch == 't':
				if argIndex >= len(args) {
					doWrite(w, errMissingArg)
					break parseVerb
				}

				fmtArg(w, ch, args[argIndex], width)
				argIndex++
				break parseVerb
			default:
				doWrite(w, errNoVerb)
				break parseVerb
			}
		}

		cur++
		litStart = cur
	}

	writeLiteral(w, format, litStart, formatSize)

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

// writeLiteral copies format[from:to] to w one byte at a time.
func writeLiteral(w io.Writer, format string, from, to int) {
	if to > len(format) {
		to = len(format)
	}

	for i := from; i < to; i++ {
		singleByte[0] = format[i]
		doWrite(w, singleByte)
	}
}

func fmtArg(w io.Writer, verb byte, arg interface{}, width int) {
	switch verb {
	case 'o':
		fmtInt(w, arg, 8, width)
	case 'd':
		fmtInt(w, arg, 10, width)
	case 'x':
		fmtInt(w, arg, 16, width)
	case 's':
		fmtString(w, arg, width)
	case 't':
		fmtBool(w, arg)
	}
}

// fmtBool prints "true" or "false".
func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString prints a string or []byte value left-padded to width.
func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(s))
		for i := 0; i < len(s); i++ {
			singleByte[0] = s[i]
			doWrite(w, singleByte)
		}
	case []byte:
		fmtRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count copies of ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	singleByte[0] = ch
	for ; count > 0; count-- {
		doWrite(w, singleByte)
	}
}

// fmtInt prints any built-in integer type in base 8, 10 or 16.
func fmtInt(w io.Writer, v interface{}, base, width int) {
	var (
		uval     uint64
		negative bool
		padCh    = byte('0')
	)

	if width >= maxBufSize {
		width = maxBufSize - 1
	}

	if base == 10 {
		padCh = ' '
	}

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, negative = abs(int64(n))
	case int16:
		uval, negative = abs(int64(n))
	case int32:
		uval, negative = abs(int64(n))
	case int64:
		uval, negative = abs(n)
	case int:
		uval, negative = abs(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	// Digits are generated in reverse order and flipped at the end.
	right := 0
	for right < maxBufSize {
		digit := uval % uint64(base)
		if digit < 10 {
			numFmtBuf[right] = byte(digit) + '0'
		} else {
			numFmtBuf[right] = byte(digit-10) + 'a'
		}
		right++

		if uval /= uint64(base); uval == 0 {
			break
		}
	}

	for ; right < width; right++ {
		numFmtBuf[right] = padCh
	}

	// The sign replaces the outermost space pad or is appended.
	if negative {
		end := right - 1
		for ; end >= 0 && numFmtBuf[end] == ' '; end-- {
		}

		if end == right-1 {
			right++
		}
		numFmtBuf[end+1] = '-'
	}

	for left, last := 0, right-1; left < last; left, last = left+1, last-1 {
		numFmtBuf[left], numFmtBuf[last] = numFmtBuf[last], numFmtBuf[left]
	}

	doWrite(w, numFmtBuf[:right])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

// doWrite hides p from escape analysis. Without this, the call through the
// io.Writer interface makes the compiler move p to the heap which crashes the
// kernel if Printf runs before the allocator is initialized.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		_, _ = w.Write(p)
		return
	}

	_, _ = earlyPrintBuffer.Write(p)
}

// noEscape hides a pointer from escape analysis (see runtime/stubs.go).
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
