// Package relay forwards keyframe results as text lines to downstream UDP
// and TCP consumers.
package relay

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"vio-engine-go/so3"
)

var ErrBadLine = errors.New("relay: malformed line")

// Every line starts with "<tag>:   ," where the three blanks carry the total
// line length in decimal, right aligned.
const lengthDigits = 3

func line(tag string, body string) []byte {
	b := []byte(tag + ":" + strings.Repeat(" ", lengthDigits) + "," + body + "\r\n")
	fillLength(b, len(tag)+1)
	return b
}

func fillLength(b []byte, at int) {
	n := len(b)
	if n >= 100 {
		b[at] = byte('0' + (n/100)%10)
	}
	b[at+1] = byte('0' + (n/10)%10)
	b[at+2] = byte('0' + n%10)
}

// FormatKeyframe encodes one keyframe result: the rotation vector of D_R_i_j
// and the diagonal of its covariance.
func FormatKeyframe(source uint32, seq uint16, t float64, dR, cov so3.Mat3) []byte {
	phi := so3.Log(dR)
	return line("preint", fmt.Sprintf("%08X,%d,%.6f,%.9f,%.9f,%.9f,%.6e,%.6e,%.6e",
		source, seq, t, phi.X, phi.Y, phi.Z, cov[0][0], cov[1][1], cov[2][2]))
}

// FormatStep encodes the absolute rotation R_i_k reached at a keyframe.
func FormatStep(source uint32, seq uint16, t float64, r so3.Mat3) []byte {
	phi := so3.Log(r)
	return line("step", fmt.Sprintf("%08X,%d,%.6f,%.9f,%.9f,%.9f", source, seq, t, phi.X, phi.Y, phi.Z))
}

// FormatPose encodes an optimized T_B_W as translation and rotation vector.
func FormatPose(source uint32, seq uint16, t float64, pose so3.Transform) []byte {
	phi := so3.Log(pose.R)
	return line("pose", fmt.Sprintf("%08X,%d,%.6f,%.6f,%.6f,%.6f,%.9f,%.9f,%.9f",
		source, seq, t, pose.T.X, pose.T.Y, pose.T.Z, phi.X, phi.Y, phi.Z))
}

// ParseLine checks the length field of a line and splits it into its tag and
// comma separated fields.
func ParseLine(b []byte) (string, []string, error) {
	b = bytes.TrimSuffix(b, []byte("\r\n"))
	colon := bytes.IndexByte(b, ':')
	if colon < 0 || len(b) < colon+1+lengthDigits+1 || b[colon+1+lengthDigits] != ',' {
		return "", nil, fmt.Errorf("%w: no header", ErrBadLine)
	}
	field := strings.TrimSpace(string(b[colon+1 : colon+1+lengthDigits]))
	n, err := strconv.Atoi(field)
	if err != nil {
		return "", nil, fmt.Errorf("%w: length %q", ErrBadLine, field)
	}
	if n != len(b)+2 {
		return "", nil, fmt.Errorf("%w: length field %d, line is %d bytes", ErrBadLine, n, len(b)+2)
	}
	return string(b[:colon]), strings.Split(string(b[colon+1+lengthDigits+1:]), ","), nil
}
