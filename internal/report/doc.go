// Package report renders the catalogue spreadsheet for a finished request.
//
// The workbook holds a single Product_Details sheet with a header row and one
// row per request, plus a Variations sheet listing every generated artifact.
package report
