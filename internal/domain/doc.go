// Package domain models the regional COVID-19 case figures published by the
// Sozialministerium Baden-Württemberg and the day-over-day reports derived
// from them.
//
// # Data Source
//
// The ministry publishes an Excel workbook (Tabelle_Coronavirus-Faelle-BW.xlsx)
// that is overwritten in place once a day. The workbook is fetched over HTTP,
// parsed into an [Observation] and compared with the previously stored one.
//
// # Workbook Conventions
//
// Sheets:
//
//	Sheet 1: "Infizierte Coronavirus in BW"  cumulative infections
//	Sheet 2: "Todesfälle Coronavirus in BW"  cumulative deaths
//
// Both sheets share the same grid. Row 7 holds the reporting dates, newest
// first, so column B is always the latest day. Rows 8-51 hold the 44 Stadt-
// and Landkreise in alphabetical order with the county name in column A, and
// row 52 ("Summe") holds the state total.
//
//	      A                        B            C
//	 7                             30.06.2020   29.06.2020
//	 8    Alb-Donau-Kreis          312          311
//	 ...
//	52    Summe                    35.714       35.690
//
// Values are cumulative since tracking began. The provider occasionally
// corrects a county downwards; such decreases surface as [Anomaly] values and
// are clamped to a zero delta rather than reported as negative new cases.
//
// Empty value cells mean zero, which is how the sheet represents counties
// without any reported case at the start of the series.
//
// # Region Catalog
//
// Row positions are not discovered at runtime. The embedded, versioned
// catalog.yaml names each region's row and expected label, and the parser
// rejects a workbook whose labels do not line up (see [ParseError]).
package domain
