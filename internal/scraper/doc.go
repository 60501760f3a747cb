// Package scraper defines the core types, collaborator interfaces, and error
// taxonomy shared by the order retrieval pipeline: session drivers, the page
// cache, the converter, delivery, and the optional artifact sinks.
package scraper
