package notify

import (
	"fmt"
	"strings"

	"prijswacht/internal/catalog"
)

// Messages are Dutch and plain text. The wording is part of the product
// surface users see, so changes here are user-visible.

const historyDateLayout = "02-01-2006"

// SummaryMessage announces the first successful run of a query.
func SummaryMessage(queryName string, resultCount int) string {
	return fmt.Sprintf("Zoekopdracht: %s is voor het eerst uitgevoerd. Er zijn %d resultaten toegevoegd aan de database.", queryName, resultCount)
}

// EventMessage renders one catalog event as a notification body. For price
// changes ext adds the all-time price context; pass a zero value to omit it.
func EventMessage(queryName string, ev catalog.Event, ext catalog.PriceExtremes) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Zoekopdracht: %s\n\n", queryName)

	switch ev.Kind {
	case catalog.EventNew:
		fmt.Fprintf(&b, "Nieuw product gevonden: %s\nPrijs: €%.2f", ev.Item.Label, ev.NewPrice)
		if ev.DiscountAmount != nil && ev.DiscountPct != nil && *ev.DiscountAmount > 0 {
			fmt.Fprintf(&b, "\nAanbiedingsprijs! Korting: €%.2f (%.1f%%)", *ev.DiscountAmount, *ev.DiscountPct)
			if rp := ev.Item.RecommendedPrice; rp != nil && *rp > 0 {
				fmt.Fprintf(&b, "\nVan €%.2f voor €%.2f", *rp, ev.NewPrice)
			}
		}
	case catalog.EventPriceDrop:
		old := oldPrice(ev)
		fmt.Fprintf(&b, "Prijsverlaging voor %s\nVan €%.2f naar €%.2f", ev.Item.Label, old, ev.NewPrice)
		if ev.DiscountAmount != nil && ev.DiscountPct != nil && *ev.DiscountAmount > 0 {
			fmt.Fprintf(&b, "\nJe bespaart: €%.2f (%.1f%%)", *ev.DiscountAmount, *ev.DiscountPct)
		}
		writeHistory(&b, ev.NewPrice, ext)
	case catalog.EventPriceIncrease:
		old := oldPrice(ev)
		fmt.Fprintf(&b, "Prijsverhoging voor %s\nVan €%.2f naar €%.2f", ev.Item.Label, old, ev.NewPrice)
		if old > 0 {
			rise := ev.NewPrice - old
			fmt.Fprintf(&b, "\nPrijsstijging: €%.2f (%.1f%%)", rise, rise/old*100)
		}
		writeHistory(&b, ev.NewPrice, ext)
	}
	return b.String()
}

func oldPrice(ev catalog.Event) float64 {
	if ev.OldPrice != nil {
		return *ev.OldPrice
	}
	return 0
}

// writeHistory appends the price-history block. The header appears whenever
// history exists; the bounds only when they beat the current price.
func writeHistory(b *strings.Builder, newPrice float64, ext catalog.PriceExtremes) {
	if !ext.Known {
		return
	}
	b.WriteString("\n\nPrijsgeschiedenis:")
	if ext.Lowest < newPrice {
		fmt.Fprintf(b, "\nLaagste prijs ooit: €%.2f", ext.Lowest)
		if !ext.LowestAt.IsZero() {
			fmt.Fprintf(b, " op %s", ext.LowestAt.Format(historyDateLayout))
		}
	}
	if ext.Highest > newPrice {
		fmt.Fprintf(b, "\nHoogste prijs ooit: €%.2f", ext.Highest)
		if !ext.HighestAt.IsZero() {
			fmt.Fprintf(b, " op %s", ext.HighestAt.Format(historyDateLayout))
		}
	}
}
