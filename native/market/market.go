// Package market implements the HM token order book: producer balances minted
// by the sensor oracle, option-backed listings, outright purchases, option
// takes with time-based expiry, and brand consumption that earns sellers
// promotion secrets.
//
// Every state-mutating entry point first refreshes the cached ledger time and
// sweeps expired options, so all decisions within one call observe the same
// instant.
package market

const moduleName = "market"
