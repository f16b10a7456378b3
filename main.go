// The main package for the wage-etl executable.
package main

import "github.com/JakeFAU/county-wage-etl/cmd"

func main() {
	cmd.Execute()
}
