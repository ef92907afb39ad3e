package script

// Key names accepted by key_press and key_combo steps. The wire layer maps
// them to X11 keysyms; plain single-rune names map to the rune itself.
const (
	KeyShift     = "shift"
	KeyCtrl      = "ctrl"
	KeyAlt       = "alt"
	KeyMeta      = "meta"
	KeySuper     = "super"
	KeyEnter     = "enter"
	KeyReturn    = "return"
	KeyTab       = "tab"
	KeySpace     = "space"
	KeyBackspace = "bsp"
	KeyDelete    = "delete"
	KeyEscape    = "esc"
	KeyUp        = "up"
	KeyDown      = "down"
	KeyLeft      = "left"
	KeyRight     = "right"
	KeyHome      = "home"
	KeyEnd       = "end"
	KeyPageUp    = "pgup"
	KeyPageDown  = "pgdn"
	KeyInsert    = "ins"
)

// keysyms maps key names to X11 keysym values per the RFB key event spec.
var keysyms = map[string]uint32{
	KeyShift:     0xffe1,
	KeyCtrl:      0xffe3,
	KeyAlt:       0xffe9,
	KeyMeta:      0xffe7,
	KeySuper:     0xffeb,
	KeyEnter:     0xff0d,
	KeyReturn:    0xff0d,
	KeyTab:       0xff09,
	KeySpace:     0x0020,
	KeyBackspace: 0xff08,
	KeyDelete:    0xffff,
	KeyEscape:    0xff1b,
	KeyUp:        0xff52,
	KeyDown:      0xff54,
	KeyLeft:      0xff51,
	KeyRight:     0xff53,
	KeyHome:      0xff50,
	KeyEnd:       0xff57,
	KeyPageUp:    0xff55,
	KeyPageDown:  0xff56,
	KeyInsert:    0xff63,
	"f1":         0xffbe,
	"f2":         0xffbf,
	"f3":         0xffc0,
	"f4":         0xffc1,
	"f5":         0xffc2,
	"f6":         0xffc3,
	"f7":         0xffc4,
	"f8":         0xffc5,
	"f9":         0xffc6,
	"f10":        0xffc7,
	"f11":        0xffc8,
	"f12":        0xffc9,
	"caplk":      0xffe5,
	"numlk":      0xff7f,
	"scrlk":      0xff14,
}

// Keysym resolves a key name to its X11 keysym. Single-rune names resolve to
// the rune value itself, so "a" and "7" work without a table entry.
func Keysym(name string) (uint32, bool) {
	if sym, ok := keysyms[name]; ok {
		return sym, true
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return uint32(runes[0]), true
	}
	return 0, false
}
