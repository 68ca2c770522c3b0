package mpesa

// Environment selects the Daraja API host.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

// BaseURL returns the gateway host for the environment.
func (e Environment) BaseURL() string {
	if e == Production {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}

// B2CCommandID identifies the B2C disbursement type.
type B2CCommandID string

const (
	BusinessPayment  B2CCommandID = "BusinessPayment"
	SalaryPayment    B2CCommandID = "SalaryPayment"
	PromotionPayment B2CCommandID = "PromotionPayment"
)

// B2BCommandID identifies the B2B transfer type.
type B2BCommandID string

const (
	BusinessPayBill            B2BCommandID = "BusinessPayBill"
	BusinessBuyGoods           B2BCommandID = "BusinessBuyGoods"
	DisburseFundsToBusiness    B2BCommandID = "DisburseFundsToBusiness"
	BusinessToBusinessTransfer B2BCommandID = "BusinessToBusinessTransfer"
	MerchantToMerchantTransfer B2BCommandID = "MerchantToMerchantTransfer"
)

// QRTrxCode identifies the dynamic QR transaction type.
type QRTrxCode string

const (
	QRBuyGoods     QRTrxCode = "BG"
	QRWithdraw     QRTrxCode = "WA"
	QRPaybill      QRTrxCode = "PB"
	QRSendToMobile QRTrxCode = "SM"
)

// --- Requests ---

// STKPushRequest initiates a customer-to-business STK push prompt.
type STKPushRequest struct {
	Amount           float64
	PhoneNumber      string
	AccountReference string
	TransactionDesc  string
	CallbackURL      string // overrides Config.CallbackURL when set
}

// STKQueryRequest queries the state of an STK push.
type STKQueryRequest struct {
	CheckoutRequestID string
}

// C2BRegisterRequest registers the validation and confirmation URLs for
// a shortcode.
type C2BRegisterRequest struct {
	ShortCode       string
	ResponseType    string // "Completed" or "Cancelled"
	ConfirmationURL string
	ValidationURL   string
}

// B2CRequest pays out from the business shortcode to a customer phone.
type B2CRequest struct {
	Amount      float64
	PhoneNumber string
	CommandID   B2CCommandID
	Remarks     string
	Occasion    string
	ResultURL   string
	TimeoutURL  string
}

// B2BRequest transfers funds between business shortcodes.
type B2BRequest struct {
	Amount                 float64
	PartyB                 string
	CommandID              B2BCommandID
	SenderIdentifierType   string
	ReceiverIdentifierType string
	Remarks                string
	AccountReference       string
	ResultURL              string
	TimeoutURL             string
}

// AccountBalanceRequest queries the shortcode's account balances. Zero
// values default to the configured shortcode and identifier type 4.
type AccountBalanceRequest struct {
	PartyA         string
	IdentifierType string
	Remarks        string
	ResultURL      string
	TimeoutURL     string
}

// TransactionStatusRequest queries a completed transaction by its M-Pesa
// transaction ID.
type TransactionStatusRequest struct {
	TransactionID  string
	PartyA         string
	IdentifierType string
	Remarks        string
	Occasion       string
	ResultURL      string
	TimeoutURL     string
}

// ReversalRequest reverses a completed transaction.
type ReversalRequest struct {
	TransactionID          string
	Amount                 float64
	ReceiverParty          string
	ReceiverIdentifierType string
	Remarks                string
	Occasion               string
	ResultURL              string
	TimeoutURL             string
}

// DynamicQRRequest generates a scannable payment QR code.
type DynamicQRRequest struct {
	MerchantName          string
	RefNo                 string
	Amount                float64
	TrxCode               QRTrxCode
	CreditPartyIdentifier string
	Size                  string // "300" or "500"
}

// --- Responses (gateway JSON, field names are the wire contract) ---

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type STKQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type C2BRegisterResponse struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type B2BResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type AccountBalanceResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type TransactionStatusResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type ReversalResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type DynamicQRResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	QRCode              string `json:"QRCode"`
}
