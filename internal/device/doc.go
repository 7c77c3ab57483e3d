// Package device keeps the devices exposed to the home platform in line
// with the FastCache projection.
//
// The Reconciler walks every projected device on each pass:
//
//   - locked devices are marked unavailable with LockedReason, unlocked
//     devices are marked available again, and only changes are pushed;
//   - the dim capability follows the device's Dimmability, added or removed
//     only when the platform does not already match.
//
// The platform itself is an interface; internal/platform provides the MQTT
// implementation.
package device
