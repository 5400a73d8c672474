// Package connectivity answers "can we reach the timing server right now"
// and watches the kernel for network interfaces coming up so a sync can be
// attempted as soon as a link appears.
package connectivity
