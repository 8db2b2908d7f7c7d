package tutk

import "strconv"

// Error codes of interest to callers. The full name table below covers
// everything the vendor library is known to return.
const (
	ErrTimeout                   = -13
	ErrCanNotFindDevice          = -19
	ErrUnlicensed                = -10
	ErrDeviceOffline             = -90
	ErrWrongAuthKey              = -68
	AVErrTimeout                 = -20011
	AVErrDataNoReady             = -20012
	AVErrIncompleteFrame         = -20013
	AVErrLosedThisFrame          = -20014
	AVErrSessionCloseByRemote    = -20015
	AVErrRemoteTimeoutDisconnect = -20016
)

// Error wraps a negative return code from the vendor library.
type Error struct {
	Code int32
}

func (e *Error) Error() string {
	if name, ok := errorNames[e.Code]; ok {
		return name
	}
	return "tutk error " + strconv.Itoa(int(e.Code))
}

// Name returns the symbolic name for the code, or the decimal code when
// unknown.
func (e *Error) Name() string {
	return e.Error()
}

// NewError returns an *Error for a negative code, or nil for non-negative
// codes.
func NewError(code int32) error {
	if code >= 0 {
		return nil
	}
	return &Error{Code: code}
}

// ErrCode extracts the native code from an error chain, returning 0 when
// the error did not originate in the vendor library.
func ErrCode(err error) int32 {
	for err != nil {
		if te, ok := err.(*Error); ok {
			return te.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}

var errorNames = map[int32]string{
	-1:  "IOTC_ER_SERVER_NOT_RESPONSE",
	-2:  "IOTC_ER_FAIL_RESOLVE_HOSTNAME",
	-3:  "IOTC_ER_ALREADY_INITIALIZED",
	-4:  "IOTC_ER_FAIL_CREATE_MUTEX",
	-5:  "IOTC_ER_FAIL_CREATE_THREAD",
	-6:  "IOTC_ER_FAIL_CREATE_SOCKET",
	-7:  "IOTC_ER_FAIL_SOCKET_OPT",
	-8:  "IOTC_ER_FAIL_SOCKET_BIND",
	-10: "IOTC_ER_UNLICENSE",
	-11: "IOTC_ER_LOGIN_ALREADY_CALLED",
	-12: "IOTC_ER_NOT_INITIALIZED",
	-13: "IOTC_ER_TIMEOUT",
	-14: "IOTC_ER_INVALID_SID",
	-15: "IOTC_ER_UNKNOWN_DEVICE",
	-16: "IOTC_ER_FAIL_GET_LOCAL_IP",
	-17: "IOTC_ER_LISTEN_ALREADY_CALLED",
	-18: "IOTC_ER_EXCEED_MAX_SESSION",
	-19: "IOTC_ER_CAN_NOT_FIND_DEVICE",
	-20: "IOTC_ER_CONNECT_IS_CALLING",
	-22: "IOTC_ER_SESSION_CLOSE_BY_REMOTE",
	-23: "IOTC_ER_REMOTE_TIMEOUT_DISCONNECT",
	-24: "IOTC_ER_DEVICE_NOT_LISTENING",
	-26: "IOTC_ER_CH_NOT_ON",
	-27: "IOTC_ER_FAIL_CONNECT_SEARCH",
	-28: "IOTC_ER_MASTER_TOO_FEW",
	-29: "IOTC_ER_AES_CERTIFY_FAIL",
	-31: "IOTC_ER_SESSION_NO_FREE_CHANNEL",
	-32: "IOTC_ER_TCP_TRAVEL_FAILED",
	-33: "IOTC_ER_TCP_CONNECT_TO_SERVER_FAILED",
	-34: "IOTC_ER_CLIENT_NOT_SECURE_MODE",
	-35: "IOTC_ER_CLIENT_SECURE_MODE",
	-36: "IOTC_ER_DEVICE_NOT_SECURE_MODE",
	-37: "IOTC_ER_DEVICE_SECURE_MODE",
	-38: "IOTC_ER_INVALID_MODE",
	-39: "IOTC_ER_EXIT_LISTEN",
	-40: "IOTC_ER_NO_PERMISSION",
	-41: "IOTC_ER_NETWORK_UNREACHABLE",
	-42: "IOTC_ER_FAIL_SETUP_RELAY",
	-43: "IOTC_ER_NOT_SUPPORT_RELAY",
	-44: "IOTC_ER_NO_SERVER_LIST",
	-45: "IOTC_ER_DEVICE_MULTI_LOGIN",
	-46: "IOTC_ER_INVALID_ARG",
	-47: "IOTC_ER_NOT_SUPPORT_PE",
	-48: "IOTC_ER_DEVICE_EXCEED_MAX_SESSION",
	-49: "IOTC_ER_BLOCKED_CALL",
	-50: "IOTC_ER_SESSION_CLOSED",
	-51: "IOTC_ER_REMOTE_NOT_SUPPORTED",
	-52: "IOTC_ER_ABORTED",
	-53: "IOTC_ER_EXCEED_MAX_PACKET_SIZE",
	-54: "IOTC_ER_SERVER_NOT_SUPPORT",
	-55: "IOTC_ER_NO_PATH_TO_WRITE_DATA",
	-56: "IOTC_ER_SERVICE_IS_NOT_STARTED",
	-57: "IOTC_ER_STILL_IN_PROCESSING",
	-58: "IOTC_ER_NOT_ENOUGH_MEMORY",
	-59: "IOTC_ER_DEVICE_IS_BANNED",
	-60: "IOTC_ER_MASTER_NOT_RESPONSE",
	-61: "IOTC_ER_RESOURCE_ERROR",
	-62: "IOTC_ER_QUEUE_FULL",
	-63: "IOTC_ER_NOT_SUPPORT",
	-64: "IOTC_ER_DEVICE_IS_SLEEP",
	-65: "IOTC_ER_TCP_NOT_SUPPORT",
	-66: "IOTC_ER_WAKEUP_NOT_INITIALIZED",
	-67: "IOTC_ER_DEVICE_REJECT_BYPORT",
	-68: "IOTC_ER_DEVICE_REJECT_BY_WRONG_AUTH_KEY",
	-69: "IOTC_ER_DEVICE_NOT_USE_KEY_AUTHENTICATION",
	-70: "IOTC_ER_DID_NOT_LOGIN",
	-71: "IOTC_ER_DID_NOT_LOGIN_WITH_AUTHKEY",
	-72: "IOTC_ER_SESSION_IN_USE",
	-90: "IOTC_ER_DEVICE_OFFLINE",
	-91: "IOTC_ER_MASTER_INVALID",

	-1001: "TUTK_ER_ALREADY_INITIALIZED",
	-1002: "TUTK_ER_INVALID_ARG",
	-1003: "TUTK_ER_MEM_INSUFFICIENT",
	-1004: "TUTK_ER_INVALID_LICENSE_KEY",
	-1005: "TUTK_ER_NO_LICENSE_KEY",

	-20000: "AV_ER_INVALID_ARG",
	-20001: "AV_ER_BUFPARA_MAXSIZE_INSUFF",
	-20002: "AV_ER_EXCEED_MAX_CHANNEL",
	-20003: "AV_ER_MEM_INSUFF",
	-20004: "AV_ER_FAIL_CREATE_THREAD",
	-20005: "AV_ER_EXCEED_MAX_ALARM",
	-20006: "AV_ER_EXCEED_MAX_SIZE",
	-20007: "AV_ER_SERV_NO_RESPONSE",
	-20008: "AV_ER_CLIENT_NO_AVLOGIN",
	-20009: "AV_ER_WRONG_VIEWACCorPWD",
	-20010: "AV_ER_INVALID_SID",
	-20011: "AV_ER_TIMEOUT",
	-20012: "AV_ER_DATA_NOREADY",
	-20013: "AV_ER_INCOMPLETE_FRAME",
	-20014: "AV_ER_LOSED_THIS_FRAME",
	-20015: "AV_ER_SESSION_CLOSE_BY_REMOTE",
	-20016: "AV_ER_REMOTE_TIMEOUT_DISCONNECT",
	-20017: "AV_ER_SERVER_EXIT",
	-20018: "AV_ER_CLIENT_EXIT",
	-20019: "AV_ER_NOT_INITIALIZED",
	-20020: "AV_ER_CLIENT_NOT_SUPPORT",
	-20021: "AV_ER_SENDIOCTRL_ALREADY_CALLED",
	-20022: "AV_ER_SENDIOCTRL_EXIT",
	-20023: "AV_ER_NO_PERMISSION",
	-20024: "AV_ER_WRONG_ACCPWD_LENGTH",
	-20025: "AV_ER_IOTC_SESSION_CLOSED",
	-20026: "AV_ER_IOTC_DEINITIALIZED",
	-20027: "AV_ER_IOTC_CHANNEL_IN_USED",
	-20028: "AV_ER_WAIT_KEY_FRAME",
	-20029: "AV_ER_CLEANBUF_ALREADY_CALLED",
	-20030: "AV_ER_SOCKET_QUEUE_FULL",
	-20031: "AV_ER_ALREADY_INITIALIZED",
	-20032: "AV_ER_DASA_CLEAN_BUFFER",
	-20033: "AV_ER_NOT_SUPPORT",
	-20034: "AV_ER_FAIL_INITIALIZE_DTLS",
	-20035: "AV_ER_FAIL_CREATE_DTLS",
	-20036: "AV_ER_REQUEST_ALREADY_CALLED",
	-20037: "AV_ER_REMOTE_NOT_SUPPORT",
	-20038: "AV_ER_TOKEN_EXCEED_MAX_SIZE",
	-20039: "AV_ER_REMOTE_NOT_SUPPORT_DTLS",
	-20040: "AV_ER_DTLS_WRONG_PWD",
	-20041: "AV_ER_DTLS_AUTH_FAIL",
	-20042: "AV_ER_VSAAS_PULLING_NOT_ENABLE",
	-20043: "AV_ER_FAIL_CONNECT_TO_VSAAS",
	-20044: "AV_ER_PARSE_JSON_FAIL",
	-20045: "AV_ER_PUSH_NOTIFICATION_NOT_ENABLE",
	-20046: "AV_ER_PUSH_NOTIFICATION_ALREADY_ENABLED",
	-20047: "AV_ER_NO_NOTIFICATION_LIST",
	-20048: "AV_ER_HTTP_ERROR",
	-20049: "AV_ER_LOCAL_NOT_SUPPORT_DTLS",
	-21334: "AV_ER_SDK_NOT_SUPPORT_DTLS",
}
