package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

const banner = `
    _   _ _   _               _   _
   /_\ | | |_(_)_ __  __ _ __| |_(_)___ _ _
  / _ \| |  _| | '  \/ _' |  _| | / _ \ ' \
 /_/ \_\_|\__|_|_|_|_\__,_|\__|_|_\___/_||_|
`

func printBanner(w io.Writer) {
	fmt.Fprint(w, color.BlueString(banner))
	fmt.Fprintln(w, color.GreenString("  Control Suite Backend - Version %s", Version))
	fmt.Fprintln(w)
}
