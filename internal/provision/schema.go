package provision

// Directory schema used by the provisioning layer. Every entity type
// carries a reserved globally-unique-id attribute (AttrID), a marker
// objectClass declaring its type, and — for COS, domain, server and
// global config — an explicit list naming which attribute names their
// children may inherit. The inheritable-name lists are data, part of
// the wire contract.
const (
	AttrID             = "provId"
	AttrObjectClass    = "objectClass"
	AttrMail           = "mail"
	AttrCN             = "cn"
	AttrUID            = "uid"
	AttrDisplayName    = "displayName"
	AttrSN             = "sn"
	AttrDomainName     = "provDomainName"
	AttrCOSID          = "provCOSId"
	AttrCreateTime     = "provCreateTimestamp"
	AttrDefaultCOSID   = "provDomainDefaultCOSId"
	AttrAccountStatus  = "provAccountStatus"
	AttrPasswordSet    = "userPassword"
	AttrMustChangePass = "provPasswordMustChange"
	AttrLastLogon      = "provLastLogonTimestamp"
	AttrLastLogonFreq  = "provLastLogonTimestampFrequency"
)

// Marker objectClass values.
const (
	ClassAccount      = "provAccount"
	ClassDomain       = "provDomain"
	ClassCOS          = "provCos"
	ClassServer       = "provServer"
	ClassGlobalConfig = "provGlobalConfig"
	ClassGroup        = "provDistributionList"
)

// Account status values. Only StatusActive permits login; StatusLockout
// permits it again once the lockout window has expired.
const (
	StatusActive      = "active"
	StatusLockout     = "lockout"
	StatusLocked      = "locked"
	StatusMaintenance = "maintenance"
	StatusPending     = "pending"
	StatusClosed      = "closed"
)

// Inheritable-attribute list attributes. Each names, on the parent
// entity itself, the attributes its children may inherit.
const (
	AttrCOSInheritedAttrs    = "provCosInheritedAttrs"
	AttrDomainInheritedAttrs = "provDomainInheritedAttrs"
	AttrServerInheritedAttrs = "provServerInheritedAttrs"
	AttrConfigInheritedAttrs = "provAccountConfigInheritedAttrs"
)

// Lockout policy attributes.
const (
	AttrLockoutEnabled         = "provPasswordLockoutEnabled"
	AttrLockoutMaxFailures     = "provPasswordLockoutMaxFailures"
	AttrLockoutDuration        = "provPasswordLockoutDuration"
	AttrLockoutFailureLifetime = "provPasswordLockoutFailureLifetime"
	AttrLockedTime             = "provPasswordLockoutLockedTime"
	AttrPasswordFailedLogins   = "provPasswordFailedLoginTime"
	AttrTwoFactorFailedLogins  = "provTwoFactorFailedLoginTime"
	AttrLockoutSuppressTwoFA   = "provPasswordLockoutSuppressionEnabled"
)

// Authentication mechanism attributes, carried on the domain.
const (
	AttrAuthMech               = "provAuthMech"
	AttrAuthFallbackToLocal    = "provAuthFallbackToLocal"
	AttrAuthLdapURL            = "provAuthLdapURL"
	AttrAuthLdapStartTLS       = "provAuthLdapStartTlsEnabled"
	AttrAuthLdapBindDn         = "provAuthLdapBindDn"
	AttrAuthLdapSearchBase     = "provAuthLdapSearchBase"
	AttrAuthLdapSearchFilter   = "provAuthLdapSearchFilter"
	AttrAuthLdapSearchBindDn   = "provAuthLdapSearchBindDn"
	AttrAuthLdapSearchBindPass = "provAuthLdapSearchBindPassword"
	AttrAuthLdapExternalDn     = "provAuthLdapExternalDn"
)

// Auth mechanism values.
const (
	AuthMechLocal  = "local"
	AuthMechLdap   = "ldap"
	AuthMechAD     = "ad"
	AuthMechCustom = "custom"
)

// Auto-provisioning attributes, carried on the domain.
const (
	AttrAutoProvMode            = "provAutoProvMode"
	AttrAutoProvAuthMech        = "provAutoProvAuthMech"
	AttrAutoProvAttrMap         = "provAutoProvAttrMap"
	AttrAutoProvAccountNameMap  = "provAutoProvAccountNameMap"
	AttrAutoProvLdapURL         = "provAutoProvLdapURL"
	AttrAutoProvLdapStartTLS    = "provAutoProvLdapStartTlsEnabled"
	AttrAutoProvLdapAdminBindDn = "provAutoProvLdapAdminBindDn"
	AttrAutoProvLdapAdminPass   = "provAutoProvLdapAdminBindPassword"
	AttrAutoProvLdapSearchBase  = "provAutoProvLdapSearchBase"
	AttrAutoProvLdapSearchFilt  = "provAutoProvLdapSearchFilter"
	AttrAutoProvLdapBindDn      = "provAutoProvLdapBindDn"
	AttrAutoProvBatchSize       = "provAutoProvBatchSize"
	AttrAutoProvLock            = "provAutoProvLock"
	AttrAutoProvLastPolled      = "provAutoProvLastPolledTimestamp"
	AttrAutoProvNotifyFrom      = "provAutoProvNotificationFromAddress"
	AttrAutoProvNotifySubject   = "provAutoProvNotificationSubject"
	AttrAutoProvNotifyBody      = "provAutoProvNotificationBody"
)

// Auto-provisioning mode values.
const (
	AutoProvModeEager  = "EAGER"
	AutoProvModeLazy   = "LAZY"
	AutoProvModeManual = "MANUAL"
)

// GAL attributes, carried on the domain.
const (
	AttrGalAttrMap            = "provGalLdapAttrMap"
	AttrGalValueMap           = "provGalLdapValueMap"
	AttrGalGroupObjectClass   = "provGalLdapGroupObjectClass"
	AttrGalInternalSearchBase = "provGalInternalSearchBase"
)
