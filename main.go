// Command orderscraper archives storefront order invoices as PDFs.
package main

import "github.com/JakeFAU/orderscraper/cmd"

func main() {
	cmd.Execute()
}
