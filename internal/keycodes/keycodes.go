// Package keycodes provides the static Linux evdev KEY_* name/code table
// that key-behavior configs are resolved against.
package keycodes

// Code is a Linux evdev key code (see linux/input-event-codes.h). It is
// treated as opaque outside this package and the resolver.
type Code uint16

// Common key codes from linux/input-event-codes.h.
const (
	Reserved    Code = 0
	Esc         Code = 1
	Key1        Code = 2
	Key2        Code = 3
	Key3        Code = 4
	Key4        Code = 5
	Key5        Code = 6
	Key6        Code = 7
	Key7        Code = 8
	Key8        Code = 9
	Key9        Code = 10
	Key0        Code = 11
	Minus       Code = 12
	Equal       Code = 13
	Backspace   Code = 14
	Tab         Code = 15
	Q           Code = 16
	W           Code = 17
	E           Code = 18
	R           Code = 19
	T           Code = 20
	Y           Code = 21
	U           Code = 22
	I           Code = 23
	O           Code = 24
	P           Code = 25
	LeftBrace   Code = 26
	RightBrace  Code = 27
	Enter       Code = 28
	LeftCtrl    Code = 29
	A           Code = 30
	S           Code = 31
	D           Code = 32
	F           Code = 33
	G           Code = 34
	H           Code = 35
	J           Code = 36
	K           Code = 37
	L           Code = 38
	Semicolon   Code = 39
	Apostrophe  Code = 40
	Grave       Code = 41
	LeftShift   Code = 42
	Backslash   Code = 43
	Z           Code = 44
	X           Code = 45
	C           Code = 46
	V           Code = 47
	B           Code = 48
	N           Code = 49
	M           Code = 50
	Comma       Code = 51
	Dot         Code = 52
	Slash       Code = 53
	RightShift  Code = 54
	KPAsterisk  Code = 55
	LeftAlt     Code = 56
	Space       Code = 57
	CapsLock    Code = 58
	F1          Code = 59
	F2          Code = 60
	F3          Code = 61
	F4          Code = 62
	F5          Code = 63
	F6          Code = 64
	F7          Code = 65
	F8          Code = 66
	F9          Code = 67
	F10         Code = 68
	NumLock     Code = 69
	ScrollLock  Code = 70
	KP7         Code = 71
	KP8         Code = 72
	KP9         Code = 73
	KPMinus     Code = 74
	KP4         Code = 75
	KP5         Code = 76
	KP6         Code = 77
	KPPlus      Code = 78
	KP1         Code = 79
	KP2         Code = 80
	KP3         Code = 81
	KP0         Code = 82
	KPDot       Code = 83
	Zenkakuhan  Code = 85
	Key102ND    Code = 86
	F11         Code = 87
	F12         Code = 88
	KPEnter     Code = 96
	RightCtrl   Code = 97
	KPSlash     Code = 98
	SysRQ       Code = 99
	RightAlt    Code = 100
	LineFeed    Code = 101
	Home        Code = 102
	Up          Code = 103
	PageUp      Code = 104
	Left        Code = 105
	Right       Code = 106
	End         Code = 107
	Down        Code = 108
	PageDown    Code = 109
	Insert      Code = 110
	Delete      Code = 111
	KPEqual     Code = 117
	Pause       Code = 119
	LeftMeta    Code = 125
	RightMeta   Code = 126
	Compose     Code = 127
)

// nameTable is the canonical source of the config-file spelling of each
// key, lowercased and without the "KEY_" prefix (e.g. KEY_A -> "a" here;
// config files may write "KEY_A", "key_a" or "a", which Lookup normalizes).
var nameTable = map[Code]string{
	Esc:         "esc",
	Key1:        "1",
	Key2:        "2",
	Key3:        "3",
	Key4:        "4",
	Key5:        "5",
	Key6:        "6",
	Key7:        "7",
	Key8:        "8",
	Key9:        "9",
	Key0:        "0",
	Minus:       "minus",
	Equal:       "equal",
	Backspace:   "backspace",
	Tab:         "tab",
	Q:           "q",
	W:           "w",
	E:           "e",
	R:           "r",
	T:           "t",
	Y:           "y",
	U:           "u",
	I:           "i",
	O:           "o",
	P:           "p",
	LeftBrace:   "leftbrace",
	RightBrace:  "rightbrace",
	Enter:       "enter",
	LeftCtrl:    "leftctrl",
	A:           "a",
	S:           "s",
	D:           "d",
	F:           "f",
	G:           "g",
	H:           "h",
	J:           "j",
	K:           "k",
	L:           "l",
	Semicolon:   "semicolon",
	Apostrophe:  "apostrophe",
	Grave:       "grave",
	LeftShift:   "leftshift",
	Backslash:   "backslash",
	Z:           "z",
	X:           "x",
	C:           "c",
	V:           "v",
	B:           "b",
	N:           "n",
	M:           "m",
	Comma:       "comma",
	Dot:         "dot",
	Slash:       "slash",
	RightShift:  "rightshift",
	KPAsterisk:  "kpasterisk",
	LeftAlt:     "leftalt",
	Space:       "space",
	CapsLock:    "capslock",
	F1:          "f1",
	F2:          "f2",
	F3:          "f3",
	F4:          "f4",
	F5:          "f5",
	F6:          "f6",
	F7:          "f7",
	F8:          "f8",
	F9:          "f9",
	F10:         "f10",
	NumLock:     "numlock",
	ScrollLock:  "scrolllock",
	KP7:         "kp7",
	KP8:         "kp8",
	KP9:         "kp9",
	KPMinus:     "kpminus",
	KP4:         "kp4",
	KP5:         "kp5",
	KP6:         "kp6",
	KPPlus:      "kpplus",
	KP1:         "kp1",
	KP2:         "kp2",
	KP3:         "kp3",
	KP0:         "kp0",
	KPDot:       "kpdot",
	Key102ND:    "102nd",
	F11:         "f11",
	F12:         "f12",
	KPEnter:     "kpenter",
	RightCtrl:   "rightctrl",
	KPSlash:     "kpslash",
	SysRQ:       "sysrq",
	RightAlt:    "rightalt",
	Home:        "home",
	Up:          "up",
	PageUp:      "pageup",
	Left:        "left",
	Right:       "right",
	End:         "end",
	Down:        "down",
	PageDown:    "pagedown",
	Insert:      "insert",
	Delete:      "delete",
	KPEqual:     "kpequal",
	Pause:       "pause",
	LeftMeta:    "leftmeta",
	RightMeta:   "rightmeta",
	Compose:     "compose",
}

// ToName and byName are the derived bidirectional lookup tables, built once
// in init the same way the teacher builds NameToKeyCode from KeyCodeToName.
var (
	ToName map[Code]string
	byName map[string]Code
)

func init() {
	ToName = nameTable
	byName = make(map[string]Code, len(nameTable))
	for code, name := range nameTable {
		byName[name] = code
	}
}

// Lookup resolves a config-file key name (case-insensitive, with or
// without the "KEY_" prefix, e.g. "KEY_A", "key_a" and "a" all resolve to
// A) to its Code. The bool is false for unknown names.
func Lookup(name string) (Code, bool) {
	normalized := normalize(name)
	code, ok := byName[normalized]
	return code, ok
}

// Name returns the canonical lowercase name for a code, or "" if the code
// is not in the static table.
func Name(c Code) string {
	return nameTable[c]
}

func normalize(name string) string {
	s := []byte(name)
	out := make([]byte, 0, len(s))
	i := 0
	if len(s) >= 4 && (s[0] == 'K' || s[0] == 'k') && (s[1] == 'E' || s[1] == 'e') &&
		(s[2] == 'Y' || s[2] == 'y') && s[3] == '_' {
		i = 4
	}
	for ; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
