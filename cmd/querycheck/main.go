// Command querycheck runs one catalog fetch against a query URL and prints
// what the daemon would see. Diagnostics tool; it never touches storage.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/catalog"
	"prijswacht/internal/source"
)

func main() {
	var (
		offset    = flag.Int("offset", 0, "pagination offset")
		fetchSize = flag.Int("fetchsize", 48, "results per page")
		detail    = flag.Int("detail", -1, "show full details for one product index")
		dump      = flag.Bool("dump", false, "dump product data as JSON")
		all       = flag.Bool("all", false, "walk every page instead of fetching one")
		timeout   = flag.Duration("timeout", 10*time.Second, "per-request timeout")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <query-url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	queryURL := flag.Arg(0)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logx.NewConsole("INFO")
	lidl := source.NewLidl(source.NewClient(*timeout, 3, log), "", log)
	if !lidl.Matches(queryURL) {
		fmt.Printf("Fout: geen geschikte scraper gevonden voor URL: %s\n", queryURL)
		os.Exit(1)
	}

	fmt.Printf("API URL: %s\n\n", lidl.APIURL(queryURL))

	var (
		items    []catalog.Item
		fetchErr error
	)
	if *all {
		res, err := lidl.FetchAll(ctx, queryURL)
		items, fetchErr = res.Items, err
		if err == nil {
			fmt.Printf("Pagina's opgehaald: %d\n", res.Pages)
		}
	} else {
		items, _, fetchErr = lidl.FetchPage(ctx, queryURL, *offset, *fetchSize)
	}
	if fetchErr != nil {
		fmt.Printf("Er is een fout opgetreden: %v\n", fetchErr)
		if len(items) == 0 {
			os.Exit(1)
		}
		// Partial pages are still worth showing.
	}

	if len(items) == 0 {
		fmt.Println("Geen producten gevonden.")
		return
	}
	fmt.Printf("Gevonden producten: %d\n\n", len(items))

	if *detail >= 0 {
		if *detail >= len(items) {
			fmt.Printf("Fout: geen product gevonden met index %d\n", *detail)
			os.Exit(1)
		}
		it := items[*detail]
		fmt.Printf("Details voor product %d:\n\n", *detail)
		if *dump {
			printJSON(it)
			return
		}
		printItem(it, *detail)
		fmt.Printf("Product URL: %s\n", it.ProductURL)
		fmt.Printf("Afbeelding: %s\n", it.ImageURL)
		return
	}

	if *dump {
		printJSON(items)
		return
	}
	for i, it := range items {
		printItem(it, i)
	}
}

func printItem(it catalog.Item, index int) {
	fmt.Printf("%d. Product ID: %s\n", index, it.Code)
	fmt.Printf("   Naam: %s\n", it.Label)
	if it.Price > 0 {
		fmt.Printf("   Huidige prijs: €%.2f\n", it.Price)
	} else {
		fmt.Println("   Huidige prijs: Onbekend")
	}
	if it.RecommendedPrice != nil {
		discount := ""
		if it.DiscountAmount != nil && it.DiscountPct != nil {
			discount = fmt.Sprintf(" (Korting: €%.2f, %.1f%%)", *it.DiscountAmount, *it.DiscountPct)
		}
		fmt.Printf("   Oude prijs: €%.2f%s\n", *it.RecommendedPrice, discount)
	} else {
		fmt.Println("   Oude prijs: Niet beschikbaar")
	}
	fmt.Println()
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Er is een fout opgetreden: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
