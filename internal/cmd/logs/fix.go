package logtools

import "bytes"

// fixMsgType extracts the value of tag 35 from a raw FIX message. It
// accepts both SOH (0x01) and pipe delimited renderings. Returns "" when
// the tag is absent.
func fixMsgType(body []byte) string {
	for _, sep := range []byte{0x01, '|'} {
		if t := fieldAfter(body, []byte("35="), sep); t != "" {
			return t
		}
	}
	return ""
}

func fieldAfter(body, tag []byte, sep byte) string {
	i := 0
	for {
		j := bytes.Index(body[i:], tag)
		if j < 0 {
			return ""
		}
		j += i
		// The tag must start the message or follow a field separator.
		if j > 0 && body[j-1] != sep {
			i = j + len(tag)
			continue
		}
		start := j + len(tag)
		end := bytes.IndexByte(body[start:], sep)
		if end < 0 {
			return string(body[start:])
		}
		return string(body[start : start+end])
	}
}
