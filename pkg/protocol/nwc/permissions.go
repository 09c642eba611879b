package nwc

// Method names of NIP-47.
const (
	MethodPayInvoice       = "pay_invoice"
	MethodMultiPayInvoice  = "multi_pay_invoice"
	MethodPayKeysend       = "pay_keysend"
	MethodMultiPayKeysend  = "multi_pay_keysend"
	MethodMakeInvoice      = "make_invoice"
	MethodLookupInvoice    = "lookup_invoice"
	MethodListTransactions = "list_transactions"
	MethodGetBalance       = "get_balance"
	MethodGetInfo          = "get_info"
)

// PermissionOrder is the display order of permission tags.
var PermissionOrder = []string{
	"pay", "invoice", "lookup", "history", "balance", "info",
}

// Permissions maps each permission tag to the methods it grants. The
// mapping is fixed at build time.
var Permissions = map[string][]string{
	"pay": {
		MethodPayInvoice, MethodMultiPayInvoice,
		MethodPayKeysend, MethodMultiPayKeysend,
	},
	"invoice": {MethodMakeInvoice},
	"lookup":  {MethodLookupInvoice},
	"history": {MethodListTransactions},
	"balance": {MethodGetBalance},
	"info":    {MethodGetInfo},
}

// SupportedMethods are the methods this provider implements, in the
// order they are announced. Keysend is granted by the pay tag but has no
// handler, so it is not announced.
var SupportedMethods = []string{
	MethodPayInvoice, MethodMultiPayInvoice, MethodMakeInvoice,
	MethodLookupInvoice, MethodListTransactions, MethodGetBalance,
	MethodGetInfo,
}

// MethodsFor returns the union of methods granted by tags, in
// PermissionOrder, unknown tags ignored.
func MethodsFor(tags []string) (methods []string) {
	granted := make(map[string]bool, len(tags))
	for _, tag := range tags {
		granted[tag] = true
	}
	for _, tag := range PermissionOrder {
		if !granted[tag] {
			continue
		}
		methods = append(methods, Permissions[tag]...)
	}
	return
}

// Allowed reports whether any of the permission tags grants method.
func Allowed(tags []string, method string) bool {
	for _, tag := range tags {
		for _, m := range Permissions[tag] {
			if m == method {
				return true
			}
		}
	}
	return false
}

// PermittedSupported intersects the provider's supported methods with
// what the client's tags grant, preserving announcement order.
func PermittedSupported(tags []string) (methods []string) {
	for _, m := range SupportedMethods {
		if Allowed(tags, m) {
			methods = append(methods, m)
		}
	}
	return
}
