package enums

type Variant string

const (
	VariantThumbnail Variant = "thumbnail"
	VariantMedium    Variant = "medium"
	VariantFull      Variant = "full"
	VariantOriginal  Variant = "original"
)

func Variants() []Variant {
	return []Variant{VariantThumbnail, VariantMedium, VariantFull, VariantOriginal}
}
