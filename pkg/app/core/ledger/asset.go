package ledger

// Asset identifies one leg of the single supported trading pair.
type Asset uint8

const (
	Base Asset = iota
	Quote
)

func (a Asset) String() string {
	switch a {
	case Base:
		return "base"
	case Quote:
		return "quote"
	default:
		return "unknown"
	}
}

// ParseAsset converts an asset name ("base"/"quote") back to an Asset.
func ParseAsset(s string) (Asset, bool) {
	switch s {
	case "base":
		return Base, true
	case "quote":
		return Quote, true
	default:
		return 0, false
	}
}

// Assets lists both legs, in stable order. Handy for iteration in
// queries and persistence.
var Assets = [2]Asset{Base, Quote}
