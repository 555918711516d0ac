package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable_Write(t *testing.T) {
	tbl := NewTable("_uuid", "name")
	tbl.Title = "Switch"
	tbl.AddRow("aaaa", "sw0")
	tbl.AddRow("bb", "longer-name")

	want := "Switch\n" +
		"_uuid name\n" +
		"----- -----------\n" +
		"aaaa  sw0\n" +
		"bb    longer-name\n"
	assert.Equal(t, want, tbl.String())
}

func TestTable_PadsShortRows(t *testing.T) {
	tbl := NewTable("a", "b", "c")
	tbl.AddRow("1")

	assert.Equal(t, []string{"1", "", ""}, tbl.Rows[0])
}
