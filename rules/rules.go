// Package rules embeds the detection rule catalog. index.yaml fixes the
// catalog version and the order in which the per-category files are loaded;
// adding a rule means appending it to the matching category file, adding a
// category means listing its file in index.yaml.
package rules

import "embed"

// FS is an embed.FS containing every *.yaml file in this directory.
//
//go:embed *.yaml
var FS embed.FS

// IndexFile names the catalog index inside FS.
const IndexFile = "index.yaml"
