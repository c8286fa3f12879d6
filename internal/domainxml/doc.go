// Package domainxml is the bidirectional translator between an
// InstanceSpec and the libvirt domain descriptor.
//
// Translation is deterministic and merge-based: Build accepts an
// optional base descriptor (usually the one last read from libvirt) and
// overwrites only the nodes the instance model owns. Everything else -
// controllers, addresses, hypervisor-added devices - is re-emitted
// verbatim, so a model-driven update never destroys out-of-band state.
package domainxml
