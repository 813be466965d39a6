// Package pathmeta derives NAS path metadata from an ingest key (spec
// §4.5): category, its Japanese display label, the originating NAS server,
// the root folder under it, and a UNC-form path for display/search.
package pathmeta

import (
	"regexp"
	"strings"
)

// Meta is the derived path metadata attached to every indexed document.
type Meta struct {
	Category        string
	CategoryDisplay string
	NASServer       string
	RootFolder      string
	NASPath         string
}

// categoryDisplay maps the category enum to its Japanese label.
var categoryDisplay = map[string]string{
	"road":      "道路",
	"structure": "構造物",
}

// serverCategory is the authoritative server→category mapping (§4.5 step 3,
// §3 invariant 4). It always wins over a path-derived category.
var serverCategory = map[string]string{
	"ts-server3": "road",
	"ts-server5": "road",
	"ts-server6": "structure",
	"ts-server7": "structure",
}

// fullPattern matches the staged-pipeline prefixes documents/processed/
// docuworks-converted followed by category/server/root-folder.
var fullPattern = regexp.MustCompile(`^(?:documents|processed|docuworks-converted)/(road|structure)/(ts-server\d+)/([^/]+)/`)

// fallbackCategoryPattern matches a bare /road/ or /structure/ segment
// anywhere in the key when the staged-prefix form doesn't match.
var fallbackCategoryPattern = regexp.MustCompile(`/(road|structure)/`)

// serverPattern matches a lone ts-serverN segment anywhere in the key.
var serverPattern = regexp.MustCompile(`(ts-server\d+)`)

// Derive computes Meta from key and, when available, the original UNC/POSIX
// path carried by a scanner-payload event. originalPath takes precedence for
// nasPath construction; key is always the source of category/server/root.
func Derive(key, originalPath string) Meta {
	var m Meta

	if loc := fullPattern.FindStringSubmatchIndex(key); loc != nil {
		m.Category = key[loc[2]:loc[3]]
		m.NASServer = key[loc[4]:loc[5]]
		m.RootFolder = key[loc[6]:loc[7]]
		// Remainder starts right after the server segment (and its slash),
		// so nasPath still includes the root folder (§4.5 example 1).
		m.NASPath = buildNASPath(m.NASServer, originalPath, key, loc[5]+1)
	} else {
		if match := fallbackCategoryPattern.FindStringSubmatch(key); match != nil {
			m.Category = match[1]
		}
		if match := serverPattern.FindStringSubmatch(key); match != nil {
			m.NASServer = match[1]
		}
	}

	if corrected, ok := serverCategory[m.NASServer]; ok {
		m.Category = corrected
	}
	m.CategoryDisplay = categoryDisplay[m.Category]
	return m
}

// buildNASPath prefers the original network path (UNC-converted) and falls
// back to reconstructing a UNC path from the remainder of the key after the
// server segment (§4.5 step 2).
func buildNASPath(server, originalPath, key string, remainderStart int) string {
	if originalPath != "" {
		return toUNC(originalPath)
	}
	remainder := strings.TrimPrefix(key[remainderStart:], "/")
	remainder = strings.ReplaceAll(remainder, "/", `\`)
	return `\\` + server + `\share\` + remainder
}

// toUNC normalises a POSIX-style or already-UNC path to UNC form.
func toUNC(p string) string {
	if strings.HasPrefix(p, `\\`) {
		return p
	}
	trimmed := strings.TrimPrefix(p, "/")
	return `\\` + strings.ReplaceAll(trimmed, "/", `\`)
}
