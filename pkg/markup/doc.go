// Package markup parses and renders the small XML dialect exchanged with
// device control servers.
//
// A document is parsed into a tree of *Element values. Each element has a
// local name (any namespace prefix is dropped), an attribute map and either
// child elements or a single text value. Comments, processing instructions
// and the XML declaration are skipped. Entity references for the five
// predefined entities and numeric character references are decoded, and
// CDATA sections are taken verbatim.
//
// The parser reports malformed input as *ParseError carrying the byte
// offset of the problem.
package markup
