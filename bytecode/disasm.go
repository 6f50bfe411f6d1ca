package bytecode

import "strings"

// Disassemble returns one line per logical instruction. Decoding stops at
// the first error, which is appended as a final line.
func Disassemble(c *Code) string {
	var sb strings.Builder
	for in, err := range c.All().Seq() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		if err != nil {
			sb.WriteString("error: " + err.Error())
			break
		}
		sb.WriteString(in.String())
	}
	return sb.String()
}
