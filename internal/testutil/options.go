package testutil

// bundleOptions controls how a Builder renders the bundle.
type bundleOptions struct {
	block      bool
	crlf       bool
	uriEncoded bool
}

func defaultBundleOptions() bundleOptions {
	return bundleOptions{}
}

// BundleOption configures a Builder.
type BundleOption func(*bundleOptions)

// BlockComments renders the annotation as /*# ... */, as CSS requires.
func BlockComments() BundleOption {
	return func(o *bundleOptions) { o.block = true }
}

// CRLF terminates lines with \r\n.
func CRLF() BundleOption {
	return func(o *bundleOptions) { o.crlf = true }
}

// URIEncoded percent-encodes the inline map instead of using base64.
func URIEncoded() BundleOption {
	return func(o *bundleOptions) { o.uriEncoded = true }
}

// SourceOption configures a source added with WithSource.
type SourceOption func(*sourceData)

// Content sets the source's sourcesContent entry.
func Content(content string) SourceOption {
	return func(s *sourceData) { s.content = &content }
}
