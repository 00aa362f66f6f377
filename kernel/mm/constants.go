package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the size of a slice obtained by dividing a superpage.
	PageSize = Size(1 << PageShift)

	// SuperpageShift is equal to log2(SuperpageSize).
	SuperpageShift = 21

	// SuperpageSize defines the size of the coarse allocation unit which
	// matches the hardware huge page size.
	SuperpageSize = Size(1 << SuperpageShift)

	// SlicesPerSuperpage is the number of PageSize slices a divided
	// superpage is split into.
	SlicesPerSuperpage = 1 << (SuperpageShift - PageShift)
)
