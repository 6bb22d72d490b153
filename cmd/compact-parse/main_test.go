package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/compact.report/internal/lidar/l1packets"
	"github.com/banshee-data/compact.report/internal/testutil"
)

func fixtureHex() string {
	data := testutil.NewTelegramBuilder().WithCounter(1).AddModule(testutil.ModuleSpec{
		FrameNumber: 9,
		Lines:       1,
		Beams:       4,
		Echos:       1,
		EchoFlags:   testutil.EchoDistance | testutil.EchoRSSI,
		Distance:    testutil.ConstDistance(3000),
		RSSI:        func(int, int, int) uint16 { return 200 },
	}).Build()
	return hex.EncodeToString(data)
}

func decodeLines(t *testing.T, out string) []map[string][]map[string]interface{} {
	t.Helper()
	var results []map[string][]map[string]interface{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var r map[string][]map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		results = append(results, r)
	}
	return results
}

func TestRun_OneLinePerInput(t *testing.T) {
	in := strings.Join([]string{
		fixtureHex(),
		"zz-not-hex",
		"02020202",
		"  " + strings.ToUpper(fixtureHex()) + "  ",
	}, "\n")

	var out strings.Builder
	dec := l1packets.NewDecoder(l1packets.DecoderConfig{})
	require.NoError(t, run(strings.NewReader(in), &out, dec, false))

	results := decodeLines(t, out.String())
	require.Len(t, results, 4)

	assert.Len(t, results[0]["points"], 4)
	assert.InDelta(t, 3.0, results[0]["points"][0]["distance"], 1e-9)
	assert.EqualValues(t, 200, results[0]["points"][0]["rssi"])

	assert.NotNil(t, results[1]["points"], "malformed input still yields a list")
	assert.Empty(t, results[1]["points"])
	assert.Empty(t, results[2]["points"])
	assert.Len(t, results[3]["points"], 4, "surrounding whitespace and upper case hex are accepted")
}

func TestRun_RangeFilter(t *testing.T) {
	cfg := l1packets.DecoderConfig{}
	cfg.Limits.Min = 0.1
	cfg.Limits.Max = 2.0
	dec := l1packets.NewDecoder(cfg)

	var out strings.Builder
	require.NoError(t, run(strings.NewReader(fixtureHex()), &out, dec, false))
	results := decodeLines(t, out.String())
	require.Len(t, results, 1)
	assert.Empty(t, results[0]["points"], "3 m is outside (0.1, 2)")
}

func TestRun_EmptyInput(t *testing.T) {
	var out strings.Builder
	require.NoError(t, run(strings.NewReader(""), &out, l1packets.NewDecoder(l1packets.DecoderConfig{}), true))
	assert.Empty(t, out.String())
}

func TestRun_OverlongLineIsSkipped(t *testing.T) {
	in := strings.Repeat("ab", 70000) + "\nzz\n" + fixtureHex() + "\n"

	var out strings.Builder
	require.NoError(t, run(strings.NewReader(in), &out, l1packets.NewDecoder(l1packets.DecoderConfig{}), true))

	results := decodeLines(t, out.String())
	require.Len(t, results, 3)
	assert.NotNil(t, results[0]["points"])
	assert.Empty(t, results[0]["points"])
	assert.Empty(t, results[1]["points"])
	assert.Len(t, results[2]["points"], 4)
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("one\r\n"+strings.Repeat("x", maxLineBytes+5)+"\nlast"), 16)

	got, err := readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	_, err = readLine(r)
	assert.ErrorIs(t, err, errLineTooLong)

	got, err = readLine(r)
	require.NoError(t, err)
	assert.Equal(t, "last", got)

	_, err = readLine(r)
	assert.ErrorIs(t, err, io.EOF)
}
