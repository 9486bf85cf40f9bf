package script

// DirectionCount is the number of discrete stick directions an instruction can select.
const DirectionCount = 32

// DirectionTable maps a 5-bit direction to stick (x, y) bytes.
// Index 0 is full left/up, 8 full right, 16 full right/down and 24 full left/down,
// walking the square's border in between.
type DirectionTable [DirectionCount][2]uint8

var directions = buildDirections()

func buildDirections() DirectionTable {
	var t DirectionTable
	for i := 0; i < 16; i++ {
		x := min(min(i, 8)<<5, 255)
		y := min((max(i, 8)-8)<<5, 255)
		t[i] = [2]uint8{uint8(x), uint8(y)}
	}
	for i := 16; i < 32; i++ {
		x := min((24-min(i, 24))<<5, 255)
		y := min((32-max(i, 24))<<5, 255)
		t[i] = [2]uint8{uint8(x), uint8(y)}
	}
	return t
}

// Directions returns the precomputed table.
func Directions() DirectionTable { return directions }

// Direction returns the stick position for direction d (only the low 5 bits are used).
func Direction(d uint8) (x, y uint8) {
	p := directions[d&(DirectionCount-1)]
	return p[0], p[1]
}
